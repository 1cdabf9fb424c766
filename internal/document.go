package internal

/*
	watcher --> fsnotify backed native change source. every kernel event is journaled with an
	            increasing id (the cursor) so a stream can be reopened where the previous one stopped.
	journal --> bounded ring of raw events shared by all streams of a watcher.
	stream  --> one subscription: a set of roots read from the journal in id order.

	** Usage
	1 - create a watcher.
	2 - subscribe paths since a cursor, run the stream until stop is closed.
	3 - close the stream, subscribe again with the last batch cursor to continue.
*/
