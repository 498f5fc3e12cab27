// Package collab is the client-side real-time collaboration layer for
// project management applications: user presence, live cursors,
// collaborative editing awareness and in-app notifications, all carried
// over a pluggable publish/subscribe transport.
//
// A Client wires the feature components onto a single channel.Hub:
//
//	transport := memchan.NewBroker()
//	client, err := collab.New(collab.Config{
//		Transport: transport,
//		ProjectID: "project-1",
//		User:      collab.Identity{UserID: "user-1", DisplayName: "Dana"},
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close(context.Background())
//
// Transports live in pkg/channel's subpackages: memchan (in-process,
// mainly for tests), redischan (Redis pub/sub) and wschan (a WebSocket
// relay client with automatic reconnection). All collaboration state is
// last write wins and advisory: the layer shows who is doing what, it
// does not merge concurrent edits.
package collab
