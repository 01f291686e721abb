// SPDX-FileCopyrightText: 2024 Softbridge, LLC
// SPDX-License-Identifier: AGPL-3.0-or-later

package hub

import (
	"errors"
	"reflect"
	"sync"
	"unsafe"

	jsoniter "github.com/json-iterator/go"
)

// Make sure functions get run first
var json = func() jsoniter.API {
	neverEmpty := func(pointer unsafe.Pointer) bool { return false }

	jsoniter.RegisterTypeEncoderFunc(reflect.TypeOf(Frame{}).String(), encodeFrame, neverEmpty)
	jsoniter.RegisterTypeDecoderFunc(reflect.TypeOf(Frame{}).String(), decodeFrame)

	return jsoniter.Config{
		IndentionStep:                 0,
		MarshalFloatWith6Digits:       false,
		EscapeHTML:                    false,
		SortMapKeys:                   true,
		UseNumber:                     false,
		DisallowUnknownFields:         false,
		TagKey:                        "json",
		OnlyTaggedField:               false,
		ValidateJsonRawMessage:        false,
		ObjectFieldMustBeSimpleString: true,
		CaseSensitive:                 true,
	}.Froze()
}()

func encodeFrame(ptr unsafe.Pointer, stream *jsoniter.Stream) {
	frame := (*Frame)(ptr)
	stream.WriteVal(frame.frameJSON())
}

// Buffers large enough to hold most frames
var decodeFramePool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, 0, 256)
		return &buf
	},
}

func decodeFrame(ptr unsafe.Pointer, topLevelIter *jsoniter.Iterator) {
	bufPtr := decodeFramePool.Get().(*[]byte)

	// Read bytes so can read twice
	frameBytes := topLevelIter.SkipAndAppendBytes(*bufPtr)

	// Pool iterator with previous pool
	pool := topLevelIter.Pool()
	iter := pool.BorrowIterator(frameBytes)
	defer pool.ReturnIterator(iter)

	frame := (*Frame)(ptr)

	// Interface of *payload
	var data interface{}

	// Doesn't have to read twice if type is first field
	// If type is found c is > 0
	for c := 0; c < 3; c++ {
		iter.ResetBytes(frameBytes)
		iter.ReadObjectCB(func(i *jsoniter.Iterator, field string) bool {
			switch field {
			case "type":
				// Not already read
				if data == nil {
					frameTypeBytes := i.ReadStringAsSlice()
					inboundType, ok := inboundPayloadTypes[Kind(frameTypeBytes)]
					if !ok {
						inboundType = reflect.TypeOf(InvalidFrame{})
					}
					data = reflect.New(inboundType).Interface()

					if !ok {
						data.(*InvalidFrame).frameType = Kind(frameTypeBytes)
					}

					c++
				} else {
					i.Skip()
				}
			case "data":
				// Found type
				if c > 0 {
					i.ReadVal(data)
					c++
					return false // Finished
				}
				i.Skip()
			case "seq":
				frame.Sequence = i.ReadUint64()
			case "time":
				frame.Time = i.ReadInt64()
			case "server":
				frame.Server = i.ReadString()
			default:
				i.Skip()
			}
			return true
		})

		if err := iter.Error; err != nil {
			topLevelIter.Error = err
			return
		}

		// No frame type
		if c == 0 {
			topLevelIter.Error = errors.New("no frame type")
			return
		}
	}

	// Pool frameBytes
	*bufPtr = frameBytes[:0]
	decodeFramePool.Put(bufPtr)

	frame.Data = reflect.Indirect(reflect.ValueOf(data)).Interface()
}
