// Package main is the entry point for the C.H.A.O.S server.
//
// @title          C.H.A.O.S. API
// @version        1.0.0
// @description    Cross-platform Hub for Audio, Organizing & Socializing: server core with configuration, database lifecycle and health endpoints.
// @host           localhost:8000
// @BasePath       /
// @schemes        http
package main

func main() {
	Execute()
}
