/*
Package rest2redis is an HTTP gateway in front of Redis. A POST to /publish/{topic} or
/set/{topic} is forwarded to Redis PUBLISH or SET on "{prefix}/{topic}" with the request
body as the payload.

Every accepted command is recorded in a sliding-window event log, and the gateway
reports the resulting request rate (events in the window divided by a fixed ten second
normalization) on a JSON endpoint and to websocket subscribers, each on its own refresh
interval.

Example:

	rdb, err := store.NewRedisClient(store.Options{Host: "localhost", Port: 6379})
	if err != nil {
		log.Fatal(err)
	}

	gw := rest2redis.New(store.NewRedisStore(rdb),
		rest2redis.WithPrefix("iot"),
		rest2redis.WithAllowedKeys([]string{"secret"}),
	)
	gw.Start(ctx)
	defer gw.Stop()

	http.ListenAndServe(":3333", gw.Handler())

The event log is a min-heap by default. A fixed-capacity ring can be used instead to
bound memory:
  - Heap (https://github.com/parkerroan/rest2redis/window, NewHeapLog)
  - Ring (https://github.com/parkerroan/rest2redis/window, NewRingLog)

When several gateways serve the same traffic, a cluster.Mirror shares accepted events
over a Redis stream so each instance reports the rate of the whole fleet.
*/
package rest2redis
