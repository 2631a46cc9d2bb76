package main

import "coco-alerts/internal/cli"

func main() {
	cli.Execute()
}
