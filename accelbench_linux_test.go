//go:build ORT || ALL

package accelbench

// onnxRuntimeSharedLibrary is the default ONNX Runtime library path for Linux.
const onnxRuntimeSharedLibrary = "/usr/lib64/onnxruntime.so"
