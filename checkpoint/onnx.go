package checkpoint

import (
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// ONNX wire constants. Field numbers follow the stable onnx.proto
// definitions; only the subset needed for a weight snapshot is emitted.
const (
	onnxIRVersion    = 8
	onnxOpsetVersion = 13

	onnxTensorDouble = 11 // TensorProto.DataType DOUBLE

	// ModelProto fields
	fieldIRVersion       = 1
	fieldProducerName    = 2
	fieldProducerVersion = 3
	fieldModelVersion    = 5
	fieldGraph           = 7
	fieldOpsetImport     = 8

	// GraphProto fields
	fieldGraphInitializer = 5
	fieldGraphName        = 2

	// TensorProto fields
	fieldTensorDims       = 1
	fieldTensorDataType   = 2
	fieldTensorName       = 8
	fieldTensorDoubleData = 10

	// OperatorSetIdProto fields
	fieldOpsetVersion = 2
)

// ONNXExporter writes a checkpoint's weights as an ONNX model file so
// the trained parameters can be inspected or consumed outside this
// pipeline. Optimizer state, history, and normalization statistics stay
// in the JSON checkpoint; ONNX is a weights-only interchange snapshot.
type ONNXExporter struct{}

// NewONNXExporter creates a new ONNX exporter.
func NewONNXExporter() *ONNXExporter {
	return &ONNXExporter{}
}

// Export writes the checkpoint weights to path in ONNX format.
func (e *ONNXExporter) Export(c *Checkpoint, path string) error {
	if len(c.Weights) == 0 {
		return fmt.Errorf("checkpoint has no weights to export")
	}

	var graph []byte
	graph = protowire.AppendTag(graph, fieldGraphName, protowire.BytesType)
	graph = protowire.AppendString(graph, "bcitrain")
	for i := range c.Weights {
		graph = protowire.AppendTag(graph, fieldGraphInitializer, protowire.BytesType)
		graph = protowire.AppendBytes(graph, encodeTensorProto(&c.Weights[i]))
	}

	var opset []byte
	opset = protowire.AppendTag(opset, fieldOpsetVersion, protowire.VarintType)
	opset = protowire.AppendVarint(opset, onnxOpsetVersion)

	var buf []byte
	buf = protowire.AppendTag(buf, fieldIRVersion, protowire.VarintType)
	buf = protowire.AppendVarint(buf, onnxIRVersion)
	buf = protowire.AppendTag(buf, fieldProducerName, protowire.BytesType)
	buf = protowire.AppendString(buf, "bcitrain")
	buf = protowire.AppendTag(buf, fieldProducerVersion, protowire.BytesType)
	buf = protowire.AppendString(buf, "1.0.0")
	buf = protowire.AppendTag(buf, fieldModelVersion, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(c.Epoch))
	buf = protowire.AppendTag(buf, fieldGraph, protowire.BytesType)
	buf = protowire.AppendBytes(buf, graph)
	buf = protowire.AppendTag(buf, fieldOpsetImport, protowire.BytesType)
	buf = protowire.AppendBytes(buf, opset)

	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("failed to write ONNX file: %v", err)
	}
	return nil
}

func encodeTensorProto(w *WeightTensor) []byte {
	var buf []byte
	for _, d := range w.Shape {
		buf = protowire.AppendTag(buf, fieldTensorDims, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(d))
	}
	buf = protowire.AppendTag(buf, fieldTensorDataType, protowire.VarintType)
	buf = protowire.AppendVarint(buf, onnxTensorDouble)

	// Packed repeated double.
	packed := make([]byte, 0, 8*len(w.Data))
	for _, v := range w.Data {
		packed = protowire.AppendFixed64(packed, math.Float64bits(v))
	}
	buf = protowire.AppendTag(buf, fieldTensorDoubleData, protowire.BytesType)
	buf = protowire.AppendBytes(buf, packed)

	buf = protowire.AppendTag(buf, fieldTensorName, protowire.BytesType)
	buf = protowire.AppendString(buf, w.Name)
	return buf
}
