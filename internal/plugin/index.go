// Package plugin provides JavaScript decoders for publisher channels.
//
// Plugins are JavaScript files loaded from a directory at startup.
// Each plugin must define:
//   - A @channel directive naming the Controller/Topic it decodes
//   - A decode(message) function
//
// The message passed to decode has controller, topic, action,
// transactionId and data fields. The returned value becomes the payload of
// the decoded message. Returning an object with an error field reports a data
// error instead; error may be a string or an array of strings and may carry
// the "Retry" marker. utils.fail(texts...) and utils.retry(texts...) build
// such results; utils.parseJSON and utils.stringifyJSON are also available.
//
// Example plugin:
//
//	// @channel Trades/BHP[ASX]
//	function decode(message) {
//	    return message.data.map(function(trade) {
//	        return { price: trade.Price, volume: trade.Quantity };
//	    });
//	}
package plugin
