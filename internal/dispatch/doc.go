// Package dispatch resolves recipients and drives outbound sends.
//
// # Recipient Resolution
//
// A purely numeric token (optional leading +) is a phone number: non-digits
// are stripped, the Brazilian mobile ninth digit is elided from 13-digit
// "55" numbers, and the chat ID is formed by suffixing the user server.
// Anything else is a group name, resolved by exact match against the
// account's group chats.
//
// # Content Classification
//
// Message bodies may carry inline media directives:
//
//	[img=https://example.com/banner.png] caption text
//	[pdf=https://example.com/report.pdf]
//
// Directive media is fetched over HTTP and sent with the remaining text as
// caption. An uploaded attachment is used only when no directive matches;
// otherwise the message is plain text.
//
// # Timing
//
// Each send races a reporting deadline; the underlying send is not cancelled
// when the deadline fires. A fixed throttle delay follows every recipient.
package dispatch
