package sync

import "github.com/tildaslashalef/budgetsync/internal/plan"

// Outcome is the resolution of one plan against its remote copy
type Outcome int

const (
	// OutcomeUploadNew means there is no remote copy yet
	OutcomeUploadNew Outcome = iota + 1
	// OutcomeAdoptRemote means the remote copy is newer
	OutcomeAdoptRemote
	// OutcomeUploadLocal means the local copy is newer
	OutcomeUploadLocal
	// OutcomeKeepLocal means both copies carry the same modification time
	OutcomeKeepLocal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUploadNew:
		return "upload_new"
	case OutcomeAdoptRemote:
		return "adopt_remote"
	case OutcomeUploadLocal:
		return "upload_local"
	case OutcomeKeepLocal:
		return "keep_local"
	default:
		return "unknown"
	}
}

// Resolve compares modification times at millisecond precision. The later
// write wins; equal times keep the local copy without a network write.
func Resolve(local, remote *plan.Plan) Outcome {
	if remote == nil {
		return OutcomeUploadNew
	}

	lt := plan.Timestamp(local.UpdatedAt)
	rt := plan.Timestamp(remote.UpdatedAt)
	switch {
	case rt.After(lt):
		return OutcomeAdoptRemote
	case lt.After(rt):
		return OutcomeUploadLocal
	default:
		return OutcomeKeepLocal
	}
}
