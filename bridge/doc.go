/*
Package bridge relays text messages between an engine process's stdio and a persistent message connection.

A Session owns four streams, each used by exactly one goroutine:

 1. engine output, read by the engine->conn pump
 2. the connection's send half, written by the engine->conn pump
 3. the connection's receive half, read by the conn->engine pump
 4. engine input, written by the conn->engine pump

The two pumps share nothing, so there are no locks around the streams.
Run returns as soon as either pump finishes: the engine closing its output, the peer sending a close message, or a fatal error.
The losing pump is abandoned, and its streams are closed so that it unblocks and exits on its own.
In-flight reads or writes of the losing pump are not guaranteed to complete.

Engine output is forwarded one read at a time, each read becoming one text message.
A multi-byte character split across two reads is held back until it is complete; invalid text ends the session.
Read errors on engine output other than end-of-stream are logged and the read is retried.

Each text message from the peer is written to engine input and flushed on its own.
Non-text messages are logged and ignored, and receive errors end the session.
*/
package bridge
