package outbox

import (
	"github.com/bitvend/bitvend/internal/outbox/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("outbox",
	fx.Provide(repository.Provide),
)
