package main

var (
	ResolveDevice = resolveDevice
	Run           = run
)
