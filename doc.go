// Package gigecapture is the acquisition pipeline of a machine-vision camera
// driver.
//
// It turns the raw buffers a camera stream fills into validated frames for
// downstream consumers: buffers flow from the stream's notification goroutine
// through a bounded frame queue into the acquisition loop, which checks,
// converts and annotates them and hands them on.
//
// # Quick Start
//
//	cam := fakecam.New(fakecam.DefaultConfig())
//
//	drv, err := gigecapture.New(cam.Opener(), gigecapture.ConsumerFunc(func(f *gigecapture.Frame) {
//	    log.Printf("frame %d: %dx%d", f.Descriptor.FrameNumber, f.Descriptor.Width, f.Descriptor.Height)
//	}), gigecapture.DefaultConfig(), zerolog.Nop())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer drv.Shutdown()
//
//	if err := drv.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	go drv.Run(ctx)
//	drv.SignalReady()
//
//	if err := drv.StartAcquisition(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Pipeline
//
//	stream goroutine                 acquisition loop (Run)
//	────────────────                 ──────────────────────
//	buffer-ready ─► status check     pop (5ms timeout)
//	                 │ bad: requeue   │ stale / not acquiring: release
//	                 ▼               ▼
//	              frame queue ──►  resolve format ─► unpack 12-bit ─► size check
//	              (20, non-block)                    ─► shift ─► deliver ─► replenish
//
// The notification side never blocks and never takes the driver lock: a
// full queue sends the buffer straight back to the stream. Only buffers with
// status Success reach the queue.
//
// # States
//
//	WaitingForSystemReady ─SignalReady─► Idle ─StartAcquisition─► Acquiring
//	Acquiring ─done / stop request─► Idle
//	Acquiring ─connection lost / unowned buffer─► Faulted ─Reset─► Idle
//
// Single-image mode stops after one delivered frame, multiple-image mode
// after NumImages, continuous mode only on StopAcquisition. Stopping always
// rebuilds the stream so no buffer stays behind in it.
//
// # Frames and ownership
//
// Frames are reference counted. The driver holds one reference while
// Consumer.DeliverFrame runs and drops it afterwards; a consumer that keeps
// a frame calls Retain and later Release. The frame's memory returns to the
// buffer pool on the last Release.
//
// 16-bit samples are little endian. Mono12p and Mono12Packed are unpacked to
// 16 bits, aligned low (value) or high (value << 4), and then optionally
// shifted by ShiftBits.
//
// # Connection loss
//
// Loss of the camera's control channel invalidates the connection
// immediately. Buffers still in flight are released unprocessed, the loop
// goes Faulted at its next poll, and nothing reconnects automatically: call
// Reset.
//
// # Errors
//
// Lifecycle errors are returned (ErrNotReady, ErrDisconnected,
// ErrStreamCreation, ...). Per-frame problems never leave the loop: the
// frame is dropped, counted by reason in the statistics, and logged with a
// throttle of 10 individual messages followed by one summary per 1000.
package gigecapture
