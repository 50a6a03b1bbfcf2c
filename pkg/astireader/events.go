package astireader

import "github.com/asticode/go-astikit"

const (
	EventNameReaderBufferSwapped astikit.EventName = "astireader.reader.buffer.swapped"
	EventNameReaderClosed        astikit.EventName = "astireader.reader.closed"
	EventNameReaderDone          astikit.EventName = "astireader.reader.done"
	EventNameReaderEndOfStream   astikit.EventName = "astireader.reader.end.of.stream"
	EventNameReaderFailed        astikit.EventName = "astireader.reader.failed"
	EventNameReaderOpened        astikit.EventName = "astireader.reader.opened"
	EventNameReaderPaused        astikit.EventName = "astireader.reader.paused"
	EventNameReaderSeeked        astikit.EventName = "astireader.reader.seeked"
	EventNameReaderStarted       astikit.EventName = "astireader.reader.started"
	EventNameReaderStartOfStream astikit.EventName = "astireader.reader.start.of.stream"
)

const (
	eventNameTaskClosed   astikit.EventName = "astireader.task.closed"
	eventNameTaskDone     astikit.EventName = "astireader.task.done"
	eventNameTaskRunning  astikit.EventName = "astireader.task.running"
	eventNameTaskStarting astikit.EventName = "astireader.task.starting"
	eventNameTaskStopping astikit.EventName = "astireader.task.stopping"
)

type emission struct {
	n       astikit.EventName
	payload interface{}
}
