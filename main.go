// Command facesearch is the reverse face image search service.
package main

import "github.com/tanmay3107/reverse-image-search/cmd"

func main() {
	cmd.Execute()
}
