// Command loom is the CLI companion to loomd. It talks to the daemon's HTTP
// API to submit prompts, poll task state, approve drafts, and list tasks, and
// can also run the daemon in the foreground with the serve subcommand.
package main
