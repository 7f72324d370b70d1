package main

import "github.com/Myxogastria0808/asyncbeats"

func main() {
	asyncbeats.Main()
}
