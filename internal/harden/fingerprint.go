package harden

import "fmt"

// FingerprintScript returns the pre-navigation payload for the given
// viewport. The script redefines a fixed set of globals and nothing else:
// several detection vendors flag pages whose navigator surface is patched
// too broadly.
func FingerprintScript(vp Viewport) string {
	return fmt.Sprintf(fingerprintTemplate, vp.Width, vp.Height)
}

// fingerprintTemplate takes the viewport width and height. Every block is
// wrapped so one failing patch cannot break the rest.
const fingerprintTemplate = `
(() => {
    'use strict';
    if (window.__wqHardened) { return; }
    window.__wqHardened = true;

    const vpWidth = %d;
    const vpHeight = %d;

    try {
        Object.defineProperty(navigator, 'webdriver', {
            get: () => undefined,
            configurable: true
        });
    } catch (e) {}

    try {
        Object.defineProperty(navigator, 'languages', {
            get: () => ['en-US', 'en'],
            configurable: true
        });
    } catch (e) {}

    try {
        Object.defineProperty(navigator, 'plugins', {
            get: () => {
                const plugins = [
                    { name: 'Chrome PDF Plugin', filename: 'internal-pdf-viewer', description: 'Portable Document Format', length: 1 },
                    { name: 'Chrome PDF Viewer', filename: 'mhjfbmdgcfjbbpaeojofohoefgiehjai', description: '', length: 1 },
                    { name: 'Native Client', filename: 'internal-nacl-plugin', description: '', length: 2 }
                ];
                plugins.item = (i) => plugins[i] || null;
                plugins.namedItem = (n) => plugins.find(p => p.name === n) || null;
                plugins.refresh = () => {};
                return plugins;
            },
            configurable: true
        });
    } catch (e) {}

    try {
        if (!window.chrome) { window.chrome = {}; }
        if (!window.chrome.runtime) {
            window.chrome.runtime = {
                connect: function() { return { onMessage: { addListener: function() {} }, postMessage: function() {} }; },
                sendMessage: function() {},
                onMessage: { addListener: function() {} },
                id: undefined
            };
        }
        if (!window.chrome.csi) { window.chrome.csi = function() { return {}; }; }
        if (!window.chrome.loadTimes) {
            window.chrome.loadTimes = function() {
                const t = Date.now() / 1000;
                return {
                    requestTime: t, startLoadTime: t, commitLoadTime: t,
                    finishDocumentLoadTime: t, finishLoadTime: t, firstPaintTime: t,
                    firstPaintAfterLoadTime: 0, navigationType: 'navigate',
                    wasFetchedViaSpdy: false, wasNpnNegotiated: true,
                    npnNegotiatedProtocol: 'h2', wasAlternateProtocolAvailable: false,
                    connectionInfo: 'h2'
                };
            };
        }
    } catch (e) {}

    try {
        if (navigator.permissions && navigator.permissions.query) {
            const originalQuery = navigator.permissions.query.bind(navigator.permissions);
            navigator.permissions.query = (parameters) => {
                if (parameters && parameters.name === 'notifications') {
                    return Promise.resolve({
                        state: typeof Notification !== 'undefined' ? Notification.permission : 'default',
                        onchange: null
                    });
                }
                return originalQuery(parameters);
            };
        }
    } catch (e) {}

    try {
        if (navigator.mediaDevices && navigator.mediaDevices.getUserMedia) {
            navigator.mediaDevices.getUserMedia = function() {
                const delay = 200 + Math.random() * 800;
                return new Promise((resolve, reject) => {
                    setTimeout(() => {
                        reject(new DOMException('Permission denied', 'NotAllowedError'));
                    }, delay);
                });
            };
        }
    } catch (e) {}

    try {
        const UNMASKED_VENDOR_WEBGL = 37445;
        const UNMASKED_RENDERER_WEBGL = 37446;
        ['WebGLRenderingContext', 'WebGL2RenderingContext'].forEach(function(ctxName) {
            const ctx = window[ctxName];
            if (!ctx || !ctx.prototype) { return; }
            const originalGetParameter = ctx.prototype.getParameter;
            if (typeof originalGetParameter !== 'function' || originalGetParameter.__wq) { return; }
            ctx.prototype.getParameter = function(param) {
                if (param === UNMASKED_VENDOR_WEBGL) { return 'Intel Inc.'; }
                if (param === UNMASKED_RENDERER_WEBGL) { return 'Intel Iris OpenGL Engine'; }
                return originalGetParameter.call(this, param);
            };
            ctx.prototype.getParameter.__wq = true;
        });
    } catch (e) {}

    try {
        Object.defineProperty(screen, 'availWidth', {
            get: () => vpWidth,
            configurable: true
        });
        Object.defineProperty(screen, 'availHeight', {
            get: () => vpHeight - 40,
            configurable: true
        });
    } catch (e) {}

    try {
        if (navigator.getBattery) {
            navigator.getBattery = function() {
                return Promise.resolve({
                    charging: true,
                    chargingTime: 0,
                    dischargingTime: Infinity,
                    level: 0.87,
                    addEventListener: function() {},
                    removeEventListener: function() {},
                    onchargingchange: null,
                    onlevelchange: null
                });
            };
        }
    } catch (e) {}

    try {
        const frameProto = HTMLIFrameElement.prototype;
        const contentWindowDesc = Object.getOwnPropertyDescriptor(frameProto, 'contentWindow');
        if (contentWindowDesc && contentWindowDesc.get) {
            const originalGet = contentWindowDesc.get;
            Object.defineProperty(frameProto, 'contentWindow', {
                get: function() {
                    const win = originalGet.call(this);
                    if (win) {
                        try {
                            Object.defineProperty(win.navigator, 'webdriver', {
                                get: () => undefined,
                                configurable: true
                            });
                        } catch (e) {}
                    }
                    return win;
                },
                configurable: true
            });
        }
    } catch (e) {}

    try {
        const clockJitter = Math.floor(Math.random() * 1000);
        const originalDateNow = Date.now.bind(Date);
        Date.now = function() { return originalDateNow() + clockJitter; };
        if (window.performance && window.performance.now) {
            const originalPerfNow = window.performance.now.bind(window.performance);
            window.performance.now = function() { return originalPerfNow() + clockJitter; };
        }
    } catch (e) {}
})();
`
