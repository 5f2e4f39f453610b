package incident

import (
	"github.com/bitvend/bitvend/internal/incident/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("incident",
	fx.Provide(repository.Provide),
)
