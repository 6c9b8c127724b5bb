package main

import (
	"topicflow/cmd/handlers"
	"topicflow/internal/logger"
)

func main() {
	logger.Init() // Initialize the logger
	handlers.Execute()
}
