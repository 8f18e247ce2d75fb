//go:build ORT || ALL

package accelbench

// onnxRuntimeSharedLibrary is the default ONNX Runtime library path for macOS.
// This assumes ONNX Runtime was installed via Homebrew (Apple Silicon default location).
const onnxRuntimeSharedLibrary = "/opt/homebrew/lib/libonnxruntime.dylib"
