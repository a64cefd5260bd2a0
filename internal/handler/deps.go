package handler

import (
	"worldsync/internal/app/presence"
	"worldsync/internal/configs"
)

type AppDeps struct {
	Hub    *presence.Hub
	Config *configs.AppConfig
}
