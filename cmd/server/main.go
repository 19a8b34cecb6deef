package main

import "collab-backend/internal/app"

func main() {
	app.Run()
}
