// Package device implements the protocol engine driving a Mooltipass
// password manager over an injected Transport.
//
// # Overview
//
// The engine is built from three layers:
//
//   - a command queue guaranteeing at most one outstanding 64-byte packet,
//     delivering each inbound frame to the head command's callback;
//   - a job engine running composite operations as strictly serial lists of
//     sub-commands, with success/failure cascading and splicing hooks for
//     fallback paths and recursive flash reads;
//   - high-level operations: credential get/set, streaming data blob
//     read/write, memory management mode with full database mirroring,
//     integrity checking and write-back.
//
// A status poller probes the device every 500 ms and triggers parameter
// reload and date synchronization when the device unlocks.
//
// # Concurrency
//
// All engine state lives on a single goroutine; inbound frames, the poll
// timer and every public call are events on that goroutine, and every
// callback is invoked there. Callbacks must not block.
//
// # Basic Usage
//
//	dev := device.New(tr,
//	    device.WithLogger(logging.NewDevelopmentLogger()),
//	)
//	defer dev.Close()
//
//	dev.GetCredential("example.org", "", "", "",
//	    func(ok bool, errstr, service, login, password, description string) {
//	        ...
//	    })
//
// # Memory management mode
//
// StartMemMgmt mirrors the entire flash database into host memory; the
// session is then inspected or edited through Session(), and CommitMemMgmt
// writes the minimal diff back to the device. StartIntegrityCheck performs
// a full-page scan, repairs structural corruption in memory and can
// exercise the repair code against the loaded database.
package device
