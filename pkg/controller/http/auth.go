package http

import (
	"github.com/secmon-lab/asclepius/pkg/usecase"
)

type AuthUseCase = usecase.AuthUseCaseInterface

var errAuthRequired = usecase.ErrAuthentication
