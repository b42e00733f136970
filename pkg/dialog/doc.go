// Package dialog provides a websocket client for the multimodal dialog service.
//
// A Dialog opens one authenticated connection, sends a start envelope carrying
// the RequestParameters, and then forwards caller actions (speech control,
// audio, interrupts, respond requests) as JSON envelopes. Server events are
// decoded into Event values and routed to a Handler.
//
//	params := dialog.RequestParameters{
//	    Upstream:   dialog.Upstream{Type: "AudioOnly"},
//	    Downstream: dialog.Downstream{SampleRate: 48000},
//	    ClientInfo: dialog.ClientInfo{UserID: "u1", Device: dialog.Device{UUID: "d1"}},
//	}.WithDefaults()
//
//	d := dialog.New(dialog.Config{
//	    URL:         dialog.DefaultURL,
//	    WorkspaceID: "ws",
//	    AppID:       "app",
//	    APIKey:      key,
//	    Params:      params,
//	}, handler, logger)
//
//	// Start blocks until the connection closes.
//	go d.Start(ctx, "")
//
// Action methods never return errors: a send while the connection is not open
// is dropped, and transport failures are reported through Handler.OnError and
// Handler.OnClose. Callers needing non-blocking behaviour run Start on its own
// goroutine.
package dialog
