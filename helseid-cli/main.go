package main

import "github.com/folkehelseinstituttet/helseid-tools/helseid-cli/cmd"

func main() {
	cmd.Execute()
}
