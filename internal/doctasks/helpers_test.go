package doctasks

import "testing/fstest"

func packFS(body string) fstest.MapFS {
	return fstest.MapFS{"pack.yaml": &fstest.MapFile{Data: []byte(body)}}
}
