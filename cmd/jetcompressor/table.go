package main

// presetOrder ranks the bytes we expect to be most common in a Jetstream
// JSON payload (punctuation and digits used in `time_us`/`did`/`cid`
// fields, then the alphabet), most-frequent first.
var presetOrder = []byte(
	`"{}:,[]0123456789.` +
		`abcdefghijklmnopqrstuvwxyz` +
		`ABCDEFGHIJKLMNOPQRSTUVWXYZ` +
		`_-/ \t\n`,
)
