package device

import (
	"github.com/google/uuid"

	"github.com/moolticute/go-mooltipass/protocol"
)

// SubCommand is one step of a composite job: a command with an optional
// pre-send transform and a post-reply check.
type SubCommand struct {
	// Cmd is the command code sent for this step
	Cmd byte

	// Payload is the command payload, possibly overridden by BeforeSend
	Payload []byte

	// BeforeSend may replace the payload right before the command goes on
	// the wire. Returning false fails the job without sending anything.
	BeforeSend func(j *Job, payload []byte) ([]byte, bool)

	// Check inspects one reply packet. Returning false fails the job.
	// Setting done to false keeps the sub-command waiting for further
	// packets of a multi-packet reply.
	Check func(j *Job, reply []byte, done *bool) bool
}

// checkDefaultResult is the stock reply check: the first payload byte must
// be non-zero.
func checkDefaultResult(j *Job, reply []byte, done *bool) bool {
	return reply[protocol.PayloadFieldIndex] != 0
}

// Job is an ordered list of sub-commands executed strictly serially against
// the device. Sub-command callbacks may splice follow-up steps with Prepend
// and InsertAfter; UserData carries intermediate values across steps.
type Job struct {
	// ID is the request id used for cancellation
	ID string

	// UserData carries values between sub-commands, scoped to the job
	UserData map[string]interface{}

	desc      string
	subs      []*SubCommand
	cur       int
	errStr    string
	cancelled bool

	onFinished func(lastReply []byte)
	onFailed   func(failed *SubCommand)
}

// newJob creates a job with the given description and request id. An empty
// id is replaced with a fresh uuid.
func newJob(desc, id string) *Job {
	if id == "" {
		id = uuid.NewString()
	}
	return &Job{
		ID:       id,
		desc:     desc,
		UserData: map[string]interface{}{},
	}
}

// Append adds a sub-command at the end of the job.
func (j *Job) Append(s *SubCommand) {
	j.subs = append(j.subs, s)
}

// Prepend inserts a sub-command right after the currently running step, so
// it becomes the next one to execute.
func (j *Job) Prepend(s *SubCommand) {
	j.insertAt(j.cur+1, s)
}

// InsertAfter inserts a sub-command after the k-th pending step (0 is the
// step Prepend would add before).
func (j *Job) InsertAfter(s *SubCommand, k int) {
	j.insertAt(j.cur+2+k, s)
}

func (j *Job) insertAt(idx int, s *SubCommand) {
	if idx > len(j.subs) {
		idx = len(j.subs)
	}
	j.subs = append(j.subs, nil)
	copy(j.subs[idx+1:], j.subs[idx:])
	j.subs[idx] = s
}

// SetError records the failure reason surfaced to the caller when the job
// fails.
func (j *Job) SetError(msg string) {
	j.errStr = msg
}

// Error returns the recorded failure reason.
func (j *Job) Error() string {
	return j.errStr
}

// enqueueJob queues a job and starts it if the engine is idle. Must run on
// the engine goroutine.
func (d *Device) enqueueJob(j *Job) {
	d.jobQueue = append(d.jobQueue, j)
	d.runAndDequeueJobs()
}

// runAndDequeueJobs starts the next queued job when none is running. Jobs
// are strictly serial: completion of one precedes the start of the next.
func (d *Device) runAndDequeueJobs() {
	if d.currentJob != nil || len(d.jobQueue) == 0 {
		return
	}
	d.currentJob = d.jobQueue[0]
	d.jobQueue = d.jobQueue[1:]

	d.log.Debug("starting job", "desc", d.currentJob.desc, "id", d.currentJob.ID)

	if len(d.currentJob.subs) == 0 {
		d.finishJob(d.currentJob, nil)
		return
	}
	d.runCurrentSub(d.currentJob)
}

func (d *Device) runCurrentSub(j *Job) {
	sub := j.subs[j.cur]

	payload := sub.Payload
	if sub.BeforeSend != nil {
		p, ok := sub.BeforeSend(j, payload)
		if !ok {
			d.failJob(j, sub)
			return
		}
		payload = p
	}

	d.sendCommand(sub.Cmd, payload, func(ok bool, reply []byte, done *bool) {
		if j != d.currentJob {
			// the job was torn down while its command was in flight
			return
		}
		if j.cancelled {
			j.SetError(protocol.ErrCancelled.Error())
			d.failJob(j, sub)
			return
		}
		if !ok {
			if j.errStr == "" {
				var actual byte
				if len(reply) > protocol.CmdFieldIndex {
					actual = protocol.Command(reply)
				}
				j.SetError((&protocol.TransportMismatchError{
					Expected: sub.Cmd,
					Actual:   actual,
				}).Error())
			}
			d.failJob(j, sub)
			return
		}

		success := true
		if sub.Check != nil {
			success = sub.Check(j, reply, done)
		}
		if !success {
			*done = true
			d.failJob(j, sub)
			return
		}
		if !*done {
			// multi-packet reply, keep waiting
			return
		}

		j.cur++
		if j.cur >= len(j.subs) {
			d.finishJob(j, reply)
			return
		}
		d.runCurrentSub(j)
	})
}

func (d *Device) finishJob(j *Job, lastReply []byte) {
	d.log.Debug("job finished", "desc", j.desc)
	d.currentJob = nil
	if j.onFinished != nil {
		j.onFinished(lastReply)
	}
	d.runAndDequeueJobs()
}

func (d *Device) failJob(j *Job, failed *SubCommand) {
	d.log.Warn("job failed", "desc", j.desc, "error", j.errStr)
	d.currentJob = nil
	if j.onFailed != nil {
		j.onFailed(failed)
	}
	d.runAndDequeueJobs()
}
