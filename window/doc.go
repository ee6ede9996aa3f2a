/*
Package window keeps the sliding-window record of accepted requests and derives the
request rate from it.

Two logs are provided:
  - HeapLog (default): unbounded, ordered by timestamp, tolerates events that arrive
    out of order (for example events mirrored from another gateway).
  - RingLog: fixed capacity, overwrites the oldest entry once full.

Example:

	log := window.NewHeapLog(10 * time.Second)
	meter := window.NewMeter(log, window.DefaultNormalization)

	pruner := window.NewPruner(log)
	pruner.Start(ctx)
	defer pruner.Stop()

	log.Append(window.Event{Timestamp: time.Now(), Topic: "foo/bar", Kind: window.Publish})
	fmt.Println(window.FormatRate(meter.Rate(time.Now()))) // "0.10"
*/
package window
