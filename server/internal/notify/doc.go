// Package notify turns refresh outcomes into webhook notifications. The first
// failed refresh fires a "refresh failing" event, repeats are held back by a
// cooldown, and the first success afterwards fires "refresh recovered".
// Webhooks are delivered to Teams, Slack or generic HTTP targets.
package notify
