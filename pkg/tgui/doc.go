// Package tgui builds chat message text that is safe for Telegram's HTML
// parse mode. Every helper escapes its input unless the type says otherwise.
package tgui
