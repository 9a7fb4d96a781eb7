// Package logger provides adapters for popular logger libraries to work with bptree's Logger interface.
//
// The adapters allow you to use your existing logger with bptree without writing boilerplate.
// Note that the standard library's slog.Logger already implements bptree.Logger directly.
//
// Example with zap:
//
//	import (
//	    "bptree"
//	    "bptree/logger"
//	    "go.uber.org/zap"
//	)
//
//	func main() {
//	    zapLogger, _ := zap.NewProduction()
//
//	    tree, err := bptree.Open[[]byte, []byte]("data.db", bptree.BytesCodec{}, bptree.BytesCodec{}, 64, true,
//	        bptree.WithLogger(logger.NewZap(zapLogger)))
//	    if err != nil {
//	        panic(err)
//	    }
//	    defer tree.Close()
//	}
package logger
