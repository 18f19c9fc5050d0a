/*
Package protocol is the codec for the browser remote-debugging protocol: JSON messages carried in WebSocket text frames.

There are three kinds of messages:

1. Commands are sent client->browser. Each carries a correlation id, a method name, its parameters, and optionally the id of a debugging session when it targets an attached target.
2. Responses are sent browser->client and carry the id of the command they answer, plus exactly one of "result" or "error".
3. Events are sent browser->client unsolicited. They have no id, only a method name and parameters.

Every command and event has a canonical name of the form "<Domain>.<lowerCamelName>", which is both the wire "method" field and the key used for event dispatch.
Names are derived once from the definition's domain and type name (see Domain), never from runtime type information.
*/
package protocol
