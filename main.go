package main

import "gptqual/internal/app"

func main() {
	app.Main()
}
