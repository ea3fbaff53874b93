package main

import "github.com/folkehelseinstituttet/helseid-tools/crypto-cli/cmd"

func main() {
	cmd.Execute()
}
