package astiavreader

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
	"github.com/asticode/go-astireader/pkg/astireader"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	r := newMockedDemuxerReader()
	defer r.close()
	rs := newMockedDecoderReaders()
	defer rs.close()
	r.newVideoStream(0)
	r.newVideoStream(1)
	r.duration = 2e6
	r.startTime = 1e5
	mp4 := astiav.FindInputFormat("mp4")

	s, err := Open(context.Background(), OpenOptions{
		Decoder: DecoderOptions{
			ThreadCount: 2,
			ThreadType:  astiav.ThreadTypeFrame,
		},
		Dictionary:  NewCommaDictionaryOptions("k=%s", "v"),
		Format:      mp4,
		StreamIndex: astikit.IntPtr(1),
		URL:         "url",
	})
	require.NoError(t, err)
	require.Equal(t, "v", r.openInputDictionaryValue)
	require.Equal(t, mp4, r.openInputFmt)
	require.Equal(t, "url", r.openInputURL)
	cs, ok := classers.get(r)
	require.True(t, ok)
	require.Same(t, s, cs)
	require.Equal(t, astireader.SourceInfo{
		Duration:  2 * time.Second,
		FrameRate: astireader.NewRational(25, 1),
		Geometry: astireader.Geometry{
			ComponentSize: 1,
			Components:    4,
			Height:        2,
			MediaType:     astireader.MediaTypeVideo,
			PixelFormat:   "rgba",
			TimeBase:      astireader.NewRational(1, 25),
			Width:         2,
		},
		StartTime:   100 * time.Millisecond,
		StreamIndex: 1,
		TimeBase:    astireader.NewRational(1, 25),
	}, s.Info())
	require.Len(t, rs.rs, 1)
	require.Equal(t, astiav.CodecIDRawvideo, rs.rs[0].c.ID())
	require.Equal(t, astiav.CodecIDRawvideo, rs.rs[0].cpCodecID)
	require.True(t, rs.rs[0].opened)
	require.Equal(t, 2, rs.rs[0].tc)
	require.Equal(t, astiav.ThreadTypeFrame, rs.rs[0].tt)
	requireDeltaStats(t, map[string]interface{}{
		DeltaStatNameAllocatedFrames:  uint64(0),
		DeltaStatNameAllocatedPackets: uint64(0),
		DeltaStatNameIncomingByteRate: 0.0,
	}, s.DeltaStats())

	require.NoError(t, s.Close())
	require.True(t, r.freed)
	require.True(t, r.inputClosed)
	require.True(t, rs.rs[0].freed)
	_, ok = classers.get(r)
	require.False(t, ok)
	require.False(t, r.ii.interrupted)
}

func TestOpenFailures(t *testing.T) {
	r := newMockedDemuxerReader()
	defer r.close()
	rs := newMockedDecoderReaders()
	defer rs.close()

	// Opening input fails
	r.openInputErr = errors.New("test")
	_, err := Open(context.Background(), OpenOptions{})
	require.ErrorIs(t, err, r.openInputErr)
	require.True(t, r.freed)
	require.False(t, r.inputClosed)

	// No matching stream
	r.openInputErr = nil
	r.freed = false
	r.newVideoStream(0)
	_, err = Open(context.Background(), OpenOptions{MediaType: astiav.MediaTypeAudio})
	require.Error(t, err)
	require.True(t, r.freed)
	require.True(t, r.inputClosed)
	_, err = Open(context.Background(), OpenOptions{StreamIndex: astikit.IntPtr(3)})
	require.Error(t, err)
	require.Empty(t, rs.rs)

	// Context is cancelled
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Open(ctx, OpenOptions{})
	require.ErrorIs(t, err, context.Canceled)
	require.Eventually(t, func() bool { return r.ii.interrupted }, time.Second, 10*time.Millisecond)
}

func TestSourceReadPacketAndSeek(t *testing.T) {
	r := newMockedDemuxerReader()
	defer r.close()
	rs := newMockedDecoderReaders()
	defer rs.close()
	r.newVideoStream(0)
	r.newVideoStream(1)

	count := 0
	r.readFrameFunc = func(p *astiav.Packet) error {
		count++
		switch count {
		case 1, 3:
			p.SetStreamIndex(1)
			p.SetPts(int64(count))
			require.NoError(t, p.AllocPayload(2))
		case 2:
			p.SetStreamIndex(0)
		case 4:
			return errors.New("test")
		default:
			return astiav.ErrEof
		}
		return nil
	}

	s, err := Open(context.Background(), OpenOptions{StreamIndex: astikit.IntPtr(1)})
	require.NoError(t, err)
	defer s.Close()

	var ptss []int64
	for i := 0; i < 2; i++ {
		p, err := s.ReadPacket()
		require.NoError(t, err)
		pkt, ok := p.(*Packet)
		require.True(t, ok)
		ptss = append(ptss, pkt.Pts())
		p.Free()
		p.Free()
	}
	require.Equal(t, []int64{1, 3}, ptss)
	_, err = s.ReadPacket()
	require.Error(t, err)
	require.NotErrorIs(t, err, astireader.ErrEndOfStream)
	_, err = s.ReadPacket()
	require.ErrorIs(t, err, astireader.ErrEndOfStream)
	require.Equal(t, SourceCumulativeStats{
		AllocatedPackets: 1,
		IncomingBytes:    4,
		IncomingPackets:  2,
		SkippedPackets:   1,
	}, s.CumulativeStats())
	require.Equal(t, 0, s.pp.inUse())

	require.NoError(t, s.Seek(90*time.Millisecond))
	require.Equal(t, 1, r.seekFrameStreamIndex)
	require.Equal(t, int64(2), r.seekFrameTimestamp)
	require.Equal(t, astiav.NewSeekFlags(astiav.SeekFlagBackward), r.seekFrameFlags)
}

func TestSourceDecode(t *testing.T) {
	r := newMockedDemuxerReader()
	defer r.close()
	rs := newMockedDecoderReaders()
	defer rs.close()
	r.newVideoStream(0)

	s, err := Open(context.Background(), OpenOptions{})
	require.NoError(t, err)
	defer s.Close()

	// Send packet
	var sent []*astiav.Packet
	rs.sendPacketFunc = func(p *astiav.Packet) error {
		sent = append(sent, p)
		if len(sent) == 2 {
			return astiav.ErrEagain
		}
		return nil
	}
	pkt := newPacket(s.pp.get(), s.pp)
	require.NoError(t, s.SendPacket(pkt))
	require.ErrorIs(t, s.SendPacket(pkt), astireader.ErrQueueFull)
	pkt.Free()
	require.NoError(t, s.SendPacket(nil))
	require.Len(t, sent, 3)
	require.Nil(t, sent[2])

	// Receive frame
	count := 0
	rs.receiveFrameFunc = func(f *astiav.Frame) error {
		count++
		switch count {
		case 1:
			fillFrame(t, f, 3)
			return nil
		case 2:
			return astiav.ErrEagain
		default:
			return astiav.ErrEof
		}
	}
	f, err := s.ReceiveFrame()
	require.NoError(t, err)
	require.Equal(t, int64(3), f.Timestamp())
	require.Equal(t, astireader.Geometry{
		ComponentSize: 1,
		Components:    4,
		Height:        2,
		MediaType:     astireader.MediaTypeVideo,
		PixelFormat:   "rgba",
		TimeBase:      astireader.NewRational(1, 25),
		Width:         2,
	}, f.Geometry())
	n, err := f.CopyTo(make([]byte, 16))
	require.NoError(t, err)
	require.Equal(t, 16, n)
	_, err = f.CopyTo(make([]byte, 15))
	require.ErrorIs(t, err, io.ErrShortBuffer)
	require.Equal(t, 1, s.fp.inUse())
	f.Free()
	require.Equal(t, 0, s.fp.inUse())

	_, err = s.ReceiveFrame()
	require.ErrorIs(t, err, astireader.ErrWouldBlock)

	// The decoder is recreated once flushed
	_, err = s.ReceiveFrame()
	require.ErrorIs(t, err, astireader.ErrEndOfStream)
	require.Len(t, rs.rs, 2)
	require.True(t, rs.rs[0].freed)
	require.True(t, rs.rs[1].opened)
	_, ok := classers.get(rs.rs[0])
	require.False(t, ok)
	_, ok = classers.get(rs.rs[1])
	require.True(t, ok)
	require.Equal(t, 0, s.fp.inUse())

	// Unknown timestamps
	rs.receiveFrameFunc = func(f *astiav.Frame) error {
		fillFrame(t, f, astiav.NoPtsValue)
		return nil
	}
	f, err = s.ReceiveFrame()
	require.NoError(t, err)
	require.Equal(t, astireader.NoTimestamp, f.Timestamp())
	f.Free()
}
