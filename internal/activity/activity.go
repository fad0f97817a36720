// Package activity implements the ActivityRecorder fan-out named in
// spec.md §2/§6: observability events dispatched to registered Trackers
// with a per-flow FlowContext, grounded on ClientToProxyConnection's
// recordBytesReceivedFromClient/recordRequestReceivedFromClient/
// recordRequestSentToServer/recordBytesReceivedFromServer/
// recordResponseReceivedFromServer methods.
package activity

import "net/http"

// FlowContext identifies the client/server pair an event belongs to.
type FlowContext struct {
	ClientAddress   string
	Transport       string
	ServerAuthority string
	ChainAuthority  string
}

// Tracker is the spec.md §6 ActivityTracker collaborator contract.
type Tracker interface {
	BytesReceivedFromClient(ctx FlowContext, n int)
	RequestReceivedFromClient(ctx FlowContext, req *http.Request)
	RequestSent(ctx FlowContext, req *http.Request)
	BytesReceivedFromServer(ctx FlowContext, n int)
	ResponseReceived(ctx FlowContext, resp *http.Response)
}

// Recorder fans out each event to every registered Tracker.
type Recorder struct {
	trackers []Tracker
}

func NewRecorder(trackers ...Tracker) *Recorder {
	return &Recorder{trackers: trackers}
}

func (r *Recorder) Add(t Tracker) {
	r.trackers = append(r.trackers, t)
}

func (r *Recorder) BytesReceivedFromClient(ctx FlowContext, n int) {
	for _, t := range r.trackers {
		t.BytesReceivedFromClient(ctx, n)
	}
}

func (r *Recorder) RequestReceivedFromClient(ctx FlowContext, req *http.Request) {
	for _, t := range r.trackers {
		t.RequestReceivedFromClient(ctx, req)
	}
}

func (r *Recorder) RequestSent(ctx FlowContext, req *http.Request) {
	for _, t := range r.trackers {
		t.RequestSent(ctx, req)
	}
}

func (r *Recorder) BytesReceivedFromServer(ctx FlowContext, n int) {
	for _, t := range r.trackers {
		t.BytesReceivedFromServer(ctx, n)
	}
}

func (r *Recorder) ResponseReceived(ctx FlowContext, resp *http.Response) {
	for _, t := range r.trackers {
		t.ResponseReceived(ctx, resp)
	}
}
