package i18n

var tables = map[Lang]map[string]string{
	EN: {
		"app.title":        "Typhon Web Console",
		"app.subtitle":     "Configure and run pyjail bypass searches",
		"form.mode":        "Mode",
		"form.mode.rce":    "RCE",
		"form.mode.read":   "Read file",
		"form.cmd":         "Command",
		"form.filepath":    "File path",
		"form.rce_method":  "RCE method",
		"form.scope":       "local_scope (JSON)",
		"form.banned_chr":  "Banned characters",
		"form.allowed_chr": "Allowed characters",
		"form.banned_re":   "Banned regular expressions",
		"form.banned_ast":  "Banned AST nodes",
		"form.max_length":  "Maximum payload length",
		"form.depth":       "Search depth",
		"form.recursion":   "Recursion limit",
		"form.timeout":     "Timeout (seconds)",
		"form.log_level":   "Log level",
		"form.interactive": "Interactive",
		"form.print_all":   "Print all payloads",
		"form.leak":        "Allow exception leak",
		"form.unicode":     "Allow unicode bypass",
		"action.run":       "Run",
		"action.stop":      "Stop",
		"status.running":   "Running",
		"status.ok":        "Bypass found",
		"status.failed":    "No bypass found",
		"status.timeout":   "Timed out",
		"status.error":     "Engine error",

		"error.mode":              "mode must be 'rce' or 'read'.",
		"error.cmd_required":      "cmd is required in rce mode.",
		"error.filepath_required": "filepath is required in read mode.",
		"error.rce_method":        "rce_method must be 'exec' or 'eval'.",
		"error.scope_json":        "local_scope must be valid JSON: %v",
		"error.scope_object":      "local_scope must be a JSON object.",
		"error.scope_type":        "local_scope must be a JSON object or empty.",
		"error.unknown_token":     "unknown token %q in local_scope.",
		"error.invalid_field":     "%s is invalid.",
		"error.bad_body":          "request body must be a JSON object.",
		"error.busy":              "another run is in progress, try again when it finishes.",
		"error.timeout":           "Execution timed out after %d seconds.",
		"error.truncated":         "Output truncated after %d bytes.",
		"error.empty_output":      "Runner returned empty output.",
		"error.bad_output":        "Failed to parse runner output as JSON.",
		"error.engine_start":      "Failed to start the engine: %v",
		"error.engine_exit":       "Engine exited with code %d.",
		"error.not_found":         "run %s not found.",
		"error.rate_limited":      "rate limit exceeded.",
		"error.origin":            "requests from other origins are not allowed.",
		"error.cancelled":         "Run cancelled.",
	},
	ZH: {
		"app.title":        "Typhon 网页控制台",
		"app.subtitle":     "配置并运行 pyjail 绕过搜索",
		"form.mode":        "模式",
		"form.mode.rce":    "命令执行",
		"form.mode.read":   "读取文件",
		"form.cmd":         "命令",
		"form.filepath":    "文件路径",
		"form.rce_method":  "执行方式",
		"form.scope":       "local_scope (JSON)",
		"form.banned_chr":  "禁用字符",
		"form.allowed_chr": "允许字符",
		"form.banned_re":   "禁用正则",
		"form.banned_ast":  "禁用 AST 节点",
		"form.max_length":  "最大载荷长度",
		"form.depth":       "搜索深度",
		"form.recursion":   "递归上限",
		"form.timeout":     "超时（秒）",
		"form.log_level":   "日志级别",
		"form.interactive": "交互模式",
		"form.print_all":   "输出全部载荷",
		"form.leak":        "允许异常泄露",
		"form.unicode":     "允许 Unicode 绕过",
		"action.run":       "运行",
		"action.stop":      "停止",
		"status.running":   "运行中",
		"status.ok":        "已找到绕过",
		"status.failed":    "未找到绕过",
		"status.timeout":   "已超时",
		"status.error":     "引擎错误",

		"error.mode":              "mode 必须为 'rce' 或 'read'。",
		"error.cmd_required":      "rce 模式下必须填写 cmd。",
		"error.filepath_required": "read 模式下必须填写 filepath。",
		"error.rce_method":        "rce_method 必须为 'exec' 或 'eval'。",
		"error.scope_json":        "local_scope 必须是合法的 JSON：%v",
		"error.scope_object":      "local_scope 必须是 JSON 对象。",
		"error.scope_type":        "local_scope 必须是 JSON 对象或留空。",
		"error.unknown_token":     "local_scope 中存在未知标记 %q。",
		"error.invalid_field":     "%s 无效。",
		"error.bad_body":          "请求体必须是 JSON 对象。",
		"error.busy":              "已有任务在运行，请稍后再试。",
		"error.timeout":           "执行超时（%d 秒）。",
		"error.truncated":         "输出超过 %d 字节，已截断。",
		"error.empty_output":      "运行器没有输出。",
		"error.bad_output":        "无法将运行器输出解析为 JSON。",
		"error.engine_start":      "无法启动引擎：%v",
		"error.engine_exit":       "引擎退出码为 %d。",
		"error.not_found":         "未找到运行记录 %s。",
		"error.rate_limited":      "请求过于频繁。",
		"error.origin":            "不允许来自其他来源的请求。",
		"error.cancelled":         "运行已取消。",
	},
}
