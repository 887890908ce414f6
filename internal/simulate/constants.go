package simulate

import (
	"time"

	"github.com/okian/skillcheck/internal/adapters/http/api"
	"github.com/okian/skillcheck/internal/domain/model"
)

// HTTP identity headers understood by the service.
const (
	headerCandidateID   = api.HeaderCandidateID
	headerCandidateRole = api.HeaderCandidateRole
	roleAdmin           = string(model.RoleAdmin)
)

// Worker configuration constants.
const (
	WorkerChannelMultiplier = 2
)

// Runner configuration constants.
const (
	DefaultSettle        = 3 * time.Second
	PercentageMultiplier = 100
	progressInterval     = time.Second
)
