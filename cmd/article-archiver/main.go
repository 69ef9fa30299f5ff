package main

import cmd "github.com/rohmanhakim/article-archiver/internal/cli"

func main() {
	cmd.Execute()
}
