// Command subtransd is the daemon entrypoint: a single binary exposing both
// the long-running scheduler (`run`) and one-shot operator commands
// (`test-translate`, `migrate`) through the cobra root command in
// internal/cli. There is no GUI branch here, unlike the teacher's main.go,
// since a GUI is out of scope for this pipeline.
package main

import (
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/cli"
)

func main() {
	cli.Run()
}
