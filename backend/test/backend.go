package test

import (
	"github.com/itixo/durabletask/backend"
)

type TestBackend interface {
	backend.Backend
}
