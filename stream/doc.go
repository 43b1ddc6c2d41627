// Package stream turns a model's streamed response bytes into a single,
// normalized sequence of Delta events.
//
// Two wire formats are supported:
//   - NDJSON: one JSON object per line, as served by local runtimes. Content is
//     read from message.content, falling back to response; done marks the end.
//   - SSE: "data: " framed events as served by OpenAI compatible providers.
//     Content is read from choices[0].delta.content; "data: [DONE]" marks the end.
//
// Design decisions:
//   - Chunk boundaries are invisible: bytes are buffered until a newline arrives,
//     so a read that ends mid-line never produces a partial frame
//   - Lenient frames: malformed lines are skipped, since providers emit keep-alive
//     and other non-JSON lines
//   - Exactly one final: a stream that ends without its end marker still yields a
//     final, empty Delta
//   - Pull first: Decoder.Next is a plain iterator; Pipe adapts any Source to a
//     channel for consumer loops
//
// Example usage:
//
//	dec := stream.NewDecoder(resp.Body, stream.SSE)
//	for delta := range stream.Pipe(ctx, dec) {
//	    if delta.ErrorMessage != "" {
//	        return delta.Err
//	    }
//	    fmt.Print(delta.Text)
//	}
package stream
