// Package wa defines the boundary contract with the WhatsApp client
// collaborator and provides the whatsmeow-backed implementation.
package wa
