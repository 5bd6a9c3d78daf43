package reconcile

import (
	"sort"

	"github.com/jamesainslie/cutsync/pkg/cutsync/identity"
)

// Outcome records what happened to one identity during a pass.
type Outcome struct {
	// Identity is the document the outcome belongs to.
	Identity identity.Identity `json:"identity"`

	// Action is what happened, or for planned outcomes what would
	// happen: the past-tense forms after execution, the decision forms
	// from Plan.
	Action Action `json:"action"`

	// LocalPath is the document's path in the library, when known.
	LocalPath string `json:"localPath,omitempty"`

	// RemoteURL is the document's remote location, when known.
	RemoteURL string `json:"remoteUrl,omitempty"`

	// Err is the failure that produced ActionFailed, nil otherwise.
	Err error `json:"-"`

	// Detail is Err's message, carried separately so encoded reports
	// keep the failure text.
	Detail string `json:"detail,omitempty"`
}

// Report aggregates the outcomes of a reconciliation pass.
type Report struct {
	// Downloaded counts identities fetched from the remote store.
	Downloaded int `json:"downloaded"`

	// Uploaded counts identities pushed to the remote store.
	Uploaded int `json:"uploaded"`

	// UpToDate counts identities that needed no transfer.
	UpToDate int `json:"upToDate"`

	// Failed counts identities whose transfer did not complete.
	Failed int `json:"failed"`

	// Outcomes holds one entry per identity, ordered by identity key.
	Outcomes []Outcome `json:"outcomes,omitempty"`
}

// Summarize builds a report from per-identity outcomes. Outcomes are
// sorted by identity key so the same set always yields the same report.
// Planned and executed outcomes count into the same buckets.
func Summarize(outcomes []Outcome) *Report {
	sorted := make([]Outcome, len(outcomes))
	copy(sorted, outcomes)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Identity.Key() < sorted[j].Identity.Key()
	})

	r := &Report{Outcomes: sorted}
	for _, out := range sorted {
		switch out.Action {
		case ActionDownload, ActionDownloaded:
			r.Downloaded++
		case ActionUpload, ActionUploaded:
			r.Uploaded++
		case ActionUpToDate:
			r.UpToDate++
		default:
			r.Failed++
		}
	}
	return r
}

// Total returns the number of identities the pass considered. It always
// equals the sum of the four counts.
func (r *Report) Total() int {
	return r.Downloaded + r.Uploaded + r.UpToDate + r.Failed
}

// Errs returns the failed outcomes, in report order.
func (r *Report) Errs() []Outcome {
	var failed []Outcome
	for _, out := range r.Outcomes {
		if out.Action == ActionFailed {
			failed = append(failed, out)
		}
	}
	return failed
}
