// Package luavm hosts the collaborator in an embedded Lua 5.1 state
// (gopher-lua).
//
// The collaborator is an ordinary Lua module:
//
//	-- novin_ai_bridge.lua
//	local NovinAIBridge = {}
//	NovinAIBridge.__index = NovinAIBridge
//
//	function NovinAIBridge.new(config)
//		return setmetatable({config = config or {}}, NovinAIBridge)
//	end
//
//	function NovinAIBridge:process_request(request, client_id)
//		return '{"ok":true}'
//	end
//
//	return {NovinAIBridge = NovinAIBridge}
//
// Only the base, package, table, string, math and coroutine libraries are
// opened. package.path is built from the search path and home; the LUA_PATH
// environment variable is ignored and C modules cannot be loaded. print
// writes to the diagnostics writer.
package luavm
