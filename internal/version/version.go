// 包 version：构建期注入的版本信息
// 背景：Commit 由构建脚本通过 -ldflags 写入，供健康检查与日志标识运行中的构建
package version

var Commit = "dev"
