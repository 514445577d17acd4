// Package pipeline runs a fixed chain of transforms, one dedicated OS
// thread per stage, connected by single-producer/single-consumer hand-off
// channels.
//
// # Overview
//
// A pipeline is built once and then only its two ends remain:
//
//   - New starts the first stage and returns a builder
//   - Then (or AddStage for type-preserving transforms) starts one more stage
//     reading from the previous stage's output
//   - Finish consumes the builder and returns the entry Sender and the final
//     Receiver
//
// Stages start the moment they are added. Each one loops through three
// states: waiting for input, processing one item, terminated. The model is
// strictly one item in, one item out.
//
// # Basic Usage
//
//	words := pipeline.New("split", strings.Fields)
//	counts := pipeline.Then(words, "count", func(w []string) int {
//		return len(w)
//	})
//	in, out := counts.Finish()
//
//	go func() {
//		defer in.Close()
//		for _, line := range lines {
//			if in.Send(line) != nil {
//				return
//			}
//		}
//	}()
//	for n := range out.All() {
//		total += n
//	}
//
// # Shutdown
//
// There is no cancellation signal. Closing the input Sender lets the first
// stage drain its queue and terminate, which closes its own output, and so
// on down the chain; every queued item is delivered. Closing the output
// Receiver makes the last stage's next Send fail, which terminates it and
// closes its input, and so on up the chain. An item in flight is always
// finished before its stage stops.
//
// A transform that panics terminates only its own stage. Its neighbours see
// the same disconnection they would see on a normal shutdown.
//
// # Throughput Reports
//
// Every stage counts processed items and the wall time spent inside its
// transform. Once per item it checks whether the report interval (one
// second by default) has elapsed and, if so, emits a Report with the item
// count, window length, items per second and utilization. Reports are logged,
// exported to Prometheus and passed to an optional callback. They never
// affect control flow.
//
// # Ordering
//
// Items leave the pipeline in the order they entered it.
package pipeline
