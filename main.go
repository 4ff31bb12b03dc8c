package main

import "github.com/shouni/go-image-exact/cmd"

func main() {
	cmd.Execute()
}
