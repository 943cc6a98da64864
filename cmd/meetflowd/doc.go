// Command meetflowd runs the meetflow background job daemon and offers
// one-shot maintenance commands against the same store and queues.
package main
