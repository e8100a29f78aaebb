package analyzer

import (
	"google.golang.org/genai"
)

const reportFunctionName = "report_suspicious_activity"

const analystInstructions = "You are an expert cybersecurity threat detection analyst. Your primary function is to meticulously analyze " +
	"the provided batch of edge HTTP request log entries to identify sophisticated and emerging threats, " +
	"including but not limited to: coordinated dictionary attacks (e.g., multiple POSTs to /login, /admin, /signin, /wp-login.php from an IP/ASN with many 4xx responses), " +
	"SQL injection attempts (e.g., URI queries containing 'UNION SELECT', 'DROP TABLE', or SQL-like syntax), " +
	"Local/Remote File Inclusion (e.g., '../', 'etc/passwd'), " +
	"Cross-Site Scripting (XSS) payloads (e.g., '<script>', 'onerror='), " +
	"User-Agents known to be scanners or malicious bots (e.g., 'sqlmap', 'Nmap Scripting Engine', 'masscan', 'dirb', 'nikto', 'Havij', known bad bot strings), " +
	"or IPs/ASNs generating an unusually high rate of HTTP error codes (401, 403, 404, 429, 5xx) particularly to sensitive paths. " +
	"Also, consider IPs making requests to common vulnerability probing paths (e.g., '/.env', '/config/backup.zip', '/phpmyadmin/'), " +
	"or IPs exhibiting a high request rate that could indicate a denial-of-service or brute-force attack.\n\n" +
	"For each distinct suspicious activity or entity you identify with high confidence (e.g., confidence > 0.7), " +
	"YOU MUST use the 'report_suspicious_activity' tool. Provide the entity type (IP, UserAgent, ASN, URI_Pattern for specific paths, RequestPattern for method+path), " +
	"the entity value, a concise reason based on the log data (e.g., 'Multiple 403s to /admin from this IP', 'High request rate from IP', 'SQLi signature in URI query', 'User agent is a known scanner'), " +
	"a suggested WAF action ('block', 'challenge'), and a confidence_score."

// reportTool declares the one function the model is forced to call
// when it has threats to report.
func reportTool() *genai.Tool {
	return &genai.Tool{
		FunctionDeclarations: []*genai.FunctionDeclaration{
			{
				Name:        reportFunctionName,
				Description: "Reports distinct suspicious entities or behaviors found in HTTP request logs.",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"threats": {
							Type:        genai.TypeArray,
							Description: "A list of distinct suspicious entities and reasoning.",
							Items: &genai.Schema{
								Type: genai.TypeObject,
								Properties: map[string]*genai.Schema{
									"entity_type": {
										Type:        genai.TypeString,
										Description: "The kind of suspicious entity (IP, UserAgent, ASN, URI_Pattern, RequestPattern).",
									},
									"entity_value": {
										Type:        genai.TypeString,
										Description: "The exact value of the suspicious entity (e.g., IP address, UserAgent string).",
									},
									"reason": {
										Type:        genai.TypeString,
										Description: "Concise reason why this entity is suspicious.",
									},
									"suggested_action": {
										Type:        genai.TypeString,
										Description: "Recommended WAF action (block, challenge, allow, monitor).",
									},
									"confidence_score": {
										Type:        genai.TypeNumber,
										Description: "A float between 0 and 1 representing the confidence level.",
									},
								},
								Required: []string{"entity_type", "entity_value", "reason", "suggested_action", "confidence_score"},
							},
						},
					},
					Required: []string{"threats"},
				},
			},
		},
	}
}
