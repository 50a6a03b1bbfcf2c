package astireader

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// packetReader reads packets from the source and sends them to the decoder until it's
// asked to pause or reaches the end of the input, and then flushes the decoder
type packetReader struct {
	r *Reader
}

func newPacketReader(r *Reader) *packetReader {
	return &packetReader{r: r}
}

func (pr *packetReader) run() {
	for {
		// Wait to be told to run
		sr, ok := pr.waitForRun()
		if !ok {
			return
		}

		// Seek
		if sr != nil {
			if err := pr.r.src.Seek(sr.target); err != nil {
				pr.r.fail(workerPacketReader, fmt.Errorf("astireader: seeking to %s failed: %w", sr.target, err))
				return
			}
		}

		// Read
		if stop := pr.read(); stop {
			return
		}
	}
}

func (pr *packetReader) waitForRun() (sr *seekRequest, ok bool) {
	// Lock
	pr.r.m.Lock()
	defer pr.r.m.Unlock()

	// Wait
	for pr.r.s.statuses[workerPacketReader] == workerStatusIdle {
		if pr.r.isKilled() {
			return
		}
		pr.r.cw.Wait()
	}

	// Reader has been killed
	if pr.r.isKilled() {
		return
	}

	// Take pending seek
	sr = pr.r.s.seek
	pr.r.s.seek = nil
	ok = true
	return
}

func (pr *packetReader) read() (stop bool) {
	for {
		// Get status
		pr.r.m.Lock()
		s := pr.r.s.statuses[workerPacketReader]
		pr.r.m.Unlock()

		// Reader has been killed
		if pr.r.isKilled() {
			return true
		}

		// Pause has been requested
		if s == workerStatusPauseRequested {
			return pr.flush()
		}

		// Read packet
		p, err := pr.r.src.ReadPacket()
		if err != nil {
			// End of input
			if errors.Is(err, ErrEndOfStream) {
				pr.r.m.Lock()
				pr.r.s.endOfInput = true
				pr.r.applyUnlocked(workerPacketReader, workerEventEndOfInput)
				pr.r.m.Unlock()
				return pr.flush()
			}
			pr.r.fail(workerPacketReader, fmt.Errorf("astireader: reading packet failed: %w", err))
			return true
		}

		// Increment stats
		atomic.AddUint64(&pr.r.cs.incomingPackets, 1)

		// Send packet
		if stop = pr.send(p); stop {
			return
		}
	}
}

func (pr *packetReader) send(p Packet) (stop bool) {
	// Make sure packet is freed
	if p != nil {
		defer p.Free()
	}

	// Send
	if err := pr.r.sendPacket(p); err != nil {
		if !errors.Is(err, errKilled) {
			pr.r.fail(workerPacketReader, fmt.Errorf("astireader: sending packet failed: %w", err))
		}
		return true
	}
	return false
}

func (pr *packetReader) flush() (stop bool) {
	// Send flush packet
	if stop = pr.send(nil); stop {
		return
	}

	// Update statuses
	pr.r.m.Lock()
	pr.r.applyUnlocked(workerPacketReader, workerEventFlushSent)
	pr.r.applyUnlocked(workerFrameFilter, workerEventFlushSent)
	pr.r.m.Unlock()
	return false
}

// sendPacket sends p to the decoder and waits for the frame filter to receive frames
// when the decoder can't accept more packets. A nil packet flushes the decoder.
func (r *Reader) sendPacket(p Packet) error {
	// Lock
	r.dm.Lock()
	defer r.dm.Unlock()

	for {
		// Reader has been killed
		if r.isKilled() {
			return errKilled
		}

		// Send
		err := r.src.SendPacket(p)
		if err == nil {
			r.dq.sent++
			r.dc.Broadcast()
			return nil
		} else if !errors.Is(err, ErrQueueFull) {
			return err
		}

		// Wait
		r.dq.full = true
		for r.dq.full && !r.isKilled() {
			r.dc.Wait()
		}
	}
}

// receiveFrame receives the next decoded frame and waits for the packet reader to send
// packets when the decoder needs more input
func (r *Reader) receiveFrame() (Frame, error) {
	// Lock
	r.dm.Lock()
	defer r.dm.Unlock()

	for {
		// Reader has been killed
		if r.isKilled() {
			return nil, errKilled
		}

		// Receive
		f, err := r.src.ReceiveFrame()
		if err == nil {
			// Decoder may accept packets again
			if r.dq.full {
				r.dq.full = false
				r.dc.Broadcast()
			}
			return f, nil
		} else if !errors.Is(err, ErrWouldBlock) {
			return nil, err
		}

		// Unblock the packet reader
		sent := r.dq.sent
		r.dq.full = false
		r.dc.Broadcast()

		// Wait for a new packet
		for r.dq.sent == sent && !r.isKilled() {
			r.dc.Wait()
		}
	}
}
